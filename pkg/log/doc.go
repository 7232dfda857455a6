// Package log provides Conduit's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zap; callers
// never import zap directly so the backend stays swappable.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("leader"), log.Str("path", "/conduit/leader"))
//	l.Info("leadership acquired", log.Int64("lease", 42))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level, text
// or JSON format, stdout/stderr/file output).
//
// # Interop
//
// Libraries that write through the standard library logger (Pebble, the
// etcd client) can be redirected with RedirectStdLog.
package log
