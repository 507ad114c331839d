// Package domain holds the plain data types shared by the panel discussion
// and chat use cases, plus the pure trend calculation over discussion summaries.
package domain
