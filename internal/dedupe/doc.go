// Package dedupe remembers recently processed event ids so that an
// at-least-once consumer can fold each event into its state once.
package dedupe
