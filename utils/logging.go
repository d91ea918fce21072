package utils

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// InfoLogger and ErrorLogger split operational output so log collectors can
// route the streams independently.
var (
	InfoLogger  *log.Logger
	ErrorLogger *log.Logger
)

// InitLogging wires the package loggers: info to stdout, errors to stderr.
// The default log package is pointed at stderr too so stray log.Printf calls
// from dependencies land on the error stream.
func InitLogging() {
	flags := log.Ldate | log.Ltime | log.Lshortfile

	InfoLogger = log.New(os.Stdout, "INFO: ", flags)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", flags)

	log.SetOutput(os.Stderr)
	log.SetPrefix("SYSTEM: ")
	log.SetFlags(flags)
}

// LogError logs an error with a context label and trailing key-value pairs.
// A nil error is a no-op so call sites don't need to guard.
func LogError(context string, err error, kv ...interface{}) {
	if err == nil {
		return
	}
	ErrorLogger.Println(append([]interface{}{context, err}, kv...)...)
}

// LogInfo logs an informational message with trailing key-value pairs.
func LogInfo(message string, kv ...interface{}) {
	InfoLogger.Println(append([]interface{}{message}, kv...)...)
}

// LogRequestError logs an error enriched with the request's id, user, method,
// path and peer address, for correlating handler failures with access logs.
func LogRequestError(c *fiber.Ctx, context string, err error, kv ...interface{}) {
	if err == nil {
		return
	}
	requestID, _ := c.Locals("request_id").(string)
	userID, _ := c.Locals("user_id").(uuid.UUID)

	args := []interface{}{
		"request_id", requestID,
		"user_id", userID.String(),
		"method", c.Method(),
		"path", c.Path(),
		"ip", c.IP(),
		"context", context,
		"error", err,
	}
	ErrorLogger.Println(append(args, kv...)...)
}
