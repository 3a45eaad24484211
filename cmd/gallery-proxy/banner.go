package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// browseURL returns the address a local browser should open.
func browseURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

func printBanner(w io.Writer, host string, port int) {
	title := color.New(color.FgMagenta, color.Bold)
	rule := color.New(color.FgHiBlack)
	link := color.New(color.FgCyan, color.Underline)

	_, _ = fmt.Fprintln(w)
	_, _ = title.Fprintln(w, "  Modern Art Gallery")
	_, _ = rule.Fprintln(w, "  "+strings.Repeat("─", 20))
	_, _ = fmt.Fprintf(w, "  Open: %s\n\n", link.Sprint(browseURL(host, port)))
}
