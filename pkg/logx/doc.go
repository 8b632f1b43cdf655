// Package logx configures huginn's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps
// console output readable (short timestamp + short caller) and file
// output JSON-structured, with sinks and levels swappable at runtime
// via Service.Apply.
package logx
