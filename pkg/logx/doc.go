// Package logx configures streamrelay's structured logging.
//
// logx.Logger is a small value-type wrapper on top of zerolog:
//   - console output is human readable (short timestamp + short caller)
//   - the optional file sink writes JSON lines
//   - warnings and errors are also kept in a bounded in-memory ring
//     so operators can inspect recent problems over HTTP
package logx
