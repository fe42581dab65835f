// Package consts houses version information.
package consts

// Version contains the current semantic version of the application.
const Version = "0.1.0"
