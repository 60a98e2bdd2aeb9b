// Command coursechat runs the course-material assistant: an HTTP API where
// professors upload course documents and enrolled students ask questions
// answered from those documents, plus operator commands for ingestion,
// directory management and one-off queries.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/coursechat-go/cmd/coursechat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
