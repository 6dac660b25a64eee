// Package adb drives Android devices through the adb command line tool.
// Text input goes through the ADB keyboard IME as base64 broadcasts so
// unicode survives shell quoting; the previous IME is restored after
// typing.
package adb
