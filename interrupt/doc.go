// Package interrupt puts calls on hold while the device's telephony is busy.
//
// A Source reports telephony state changes. The Bridge subscribes to it while
// at least one session is attached, holds every active call when the phone
// rings or goes off hook and resumes them when it returns to idle.
package interrupt
