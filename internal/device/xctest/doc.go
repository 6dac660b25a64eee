// Package xctest drives iOS devices through a WebDriverAgent-compatible
// XCTest HTTP server. One configured endpoint serves one device; the
// WebDriver session is created lazily on first use.
package xctest
