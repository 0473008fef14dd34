// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON for log shippers; development mode writes
// colored console output. Components take a child logger from Named.
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "3000"))
package logging
