package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"kururi/internal/stage"
)

var (
	failHeader = color.New(color.FgRed, color.Bold)
	failLabel  = color.New(color.FgYellow)
	failHint   = color.New(color.FgCyan)
)

// renderFailure prints err with the stage it came from and, for rejected
// requests, the service's own diagnosis.
func renderFailure(w io.Writer, err error) {
	if err == nil {
		return
	}
	if name, ok := stage.FailedStage(err); ok {
		failHeader.Fprintf(w, "error: %s stage failed\n", name)
	} else {
		failHeader.Fprintln(w, "error:")
	}
	fmt.Fprintf(w, "  %s\n", err)

	var rejected *stage.StageRejectedError
	if errors.As(err, &rejected) && rejected.Service != nil {
		svc := rejected.Service
		if svc.Type != "" {
			fmt.Fprintf(w, "  %s %s\n", failLabel.Sprint("type:"), svc.Type)
		}
		if details := strings.TrimSpace(svc.Details); details != "" {
			fmt.Fprintf(w, "  %s %s\n", failLabel.Sprint("details:"), details)
		}
		for _, s := range svc.Suggestions {
			fmt.Fprintf(w, "  %s %s\n", failHint.Sprint("hint:"), s)
		}
	}

	var malformed *stage.MalformedResponseError
	if errors.As(err, &malformed) && len(malformed.Body) > 0 {
		fmt.Fprintf(w, "  %s %s\n", failLabel.Sprint("body:"), clipBody(malformed.Body, 512))
	}

	if payload := failedPayload(err); len(payload) > 0 {
		fmt.Fprintf(w, "  %s %s\n", failLabel.Sprint("payload:"), clipBody(payload, 512))
	}
}

// failedPayload returns the request body of the exchange that failed.
func failedPayload(err error) []byte {
	var terr *stage.TransportError
	if errors.As(err, &terr) {
		return terr.Payload
	}
	var rejected *stage.StageRejectedError
	if errors.As(err, &rejected) {
		return rejected.Payload
	}
	var malformed *stage.MalformedResponseError
	if errors.As(err, &malformed) {
		return malformed.Payload
	}
	return nil
}

func clipBody(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
