// Package logx configures camguard's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - Level changes apply live through Service.Apply (config hot reload)
package logx
