// Package hdc drives HarmonyOS devices through the hdc command line tool
// and its uitest uiInput subcommands. Screenshots round-trip through the
// device filesystem because snapshot_display cannot stream to stdout.
package hdc
