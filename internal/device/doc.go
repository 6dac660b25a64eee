// Package device abstracts the device control protocols behind a single
// Backend interface. The adb, hdc, and xctest subpackages implement it
// for Android, HarmonyOS, and iOS respectively; the Manager routes a
// device ID to whichever backend owns it.
//
// Shared concerns live here: foreground detection over protocol dump
// output, the app name catalog, text decomposition for typing, and the
// Runner seam that keeps backends testable without real devices.
package device
