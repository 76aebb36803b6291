package main

import (
	"fmt"
	"io"
	"strings"
)

// manFlag describes one entry in the generated man page.
type manFlag struct {
	short string
	value string // value placeholder for options that take an argument; empty for boolean flags
	help  string
}

var manFlags = []manFlag{
	{short: "i", value: "INTERFACE", help: "interface to capture packets on"},
	{short: "f", value: "EXPRESSION", help: "filter expression (BPF syntax)"},
	{short: "A", help: "forward authoritative answers only"},
	{short: "D", help: "do not forward empty answers"},
	{short: "t", help: "forward data over TCP (default is UDP)"},
	{short: "L", value: "SECS", help: "write a checkpoint log entry every SECS seconds"},
	{short: "T", help: "enable testing mode (reads from standard input)"},
	{short: "v", help: "verbose output, include debugging messages"},
}

var manPositionals = []manFlag{
	{short: "HOST", help: "address to forward DNS packets to"},
	{short: "PORT", help: "port to forward DNS packets to"},
}

// manEscape escapes troff(1) special characters: backslashes and hyphens.
func manEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "-", `\-`)
	return s
}

// printManPage writes a troff(1) man page for dnslogger-forward with the
// usual .TH/.SH NAME/.SH SYNOPSIS/.SH OPTIONS/.SH AUTHOR structure.
func printManPage(w io.Writer) {
	const name = "dnslogger-forward"

	fmt.Fprintf(w, ".TH %s 1\n", manEscape(strings.ToUpper(name)))
	fmt.Fprintln(w, ".SH NAME")
	fmt.Fprintln(w, manEscape(name))
	fmt.Fprintln(w, ".SH SYNOPSIS")
	fmt.Fprintf(w, ".B %s [FLAGS] [OPTIONS] <HOST> <PORT>\n", manEscape(name))
	fmt.Fprintln(w, ".SH DESCRIPTION")
	fmt.Fprintln(w, manEscape("dnslogger-forward forwards a subset of DNS traffic to a central monitoring station for analysis."))

	fmt.Fprintln(w, ".SH OPTIONS")
	for _, f := range manFlags {
		variant := fmt.Sprintf(`\fB-%s\fR`, manEscape(f.short))
		if f.value != "" {
			variant += fmt.Sprintf(` " " \fI%s\fR`, manEscape(f.value))
		}
		fmt.Fprintf(w, ".TP\n.BR %s\n", variant)
		fmt.Fprintln(w, manEscape(f.help))
	}
	for _, p := range manPositionals {
		fmt.Fprintf(w, ".TP\n.BR \\fI%s\\fR\n", manEscape(p.short))
		fmt.Fprintln(w, manEscape(p.help))
	}

	fmt.Fprintln(w, ".SH AUTHOR")
	fmt.Fprintf(w, ".B %s\n", manEscape(name))
	fmt.Fprintln(w, "was written by the rus-cert team.")
}
