// Package gologger resolves notify component loggers and bridges them into
// the go-job logger contract used by queue workers.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const namePrefix = "notify"

// ComponentName qualifies component under the notify logger namespace.
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return namePrefix
	}
	if component == namePrefix || strings.HasPrefix(component, namePrefix+".") {
		return component
	}
	return namePrefix + "." + component
}

// Resolve picks provider over logger over nop and never returns a nil logger.
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	resolvedProvider, resolved := glog.Resolve(ComponentName(component), provider, logger)
	return resolvedProvider, glog.Ensure(resolved)
}

// JobLoggers carries the go-job view of a resolved component logger.
type JobLoggers struct {
	Provider job.LoggerProvider
	Logger   job.Logger
}

// ForJobs resolves the component logger and returns it alongside its go-job
// bridge.
func ForJobs(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.Logger, JobLoggers) {
	resolvedProvider, resolved := Resolve(component, provider, logger)
	bridge := JobLoggers{Logger: job.GoLogger(resolved)}
	if resolvedProvider != nil {
		bridge.Provider = job.GoLoggerProvider(resolvedProvider)
	}
	return resolved, bridge
}
