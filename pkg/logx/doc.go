// Package logx is refreshd's structured logging, a thin layer over zerolog.
//
// Console output is human readable unless JSON is requested, the optional
// file sink is always JSON, and Service.Apply swaps both on config reload
// without invalidating loggers already handed out.
package logx
