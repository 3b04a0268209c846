// Package state keeps the per-chat conversation step for Telegram bots.
// It knows nothing about the steps themselves; bots declare their own State values.
package state
