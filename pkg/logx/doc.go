// Package logx is stockpulse's logging front end over zerolog.
//
// Components take a logx.Logger by value and derive scoped loggers with
// With(logx.String("comp", ...)). Loggers handed out by a Service follow its
// level and sink changes on config reload.
package logx
