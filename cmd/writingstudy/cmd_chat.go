// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WritingStudy/pkg/studyclient"
)

const chatHelp = "Type a message and press Enter. /reset clears the conversation, /quit exits."

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client := studyclient.New(serverURL)
	if _, err := client.Health(ctx); err != nil {
		return fmt.Errorf("study API at %s is not reachable: %w", serverURL, err)
	}
	session := studyclient.NewChatSession(client, chatUser)

	printBox("Writing-study chat\n" + render(styles.Muted, chatHelp))
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(render(styles.Title, "you> "))
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			printSuccess("conversation cleared")
			continue
		}

		fmt.Print(render(styles.Title, "assistant> "))
		_, err := session.Send(ctx, text, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case studyclient.IsStatus(err, http.StatusTooManyRequests):
			printWarning("rate limited, wait a moment and try again")
		case errors.Is(err, io.ErrUnexpectedEOF):
			printWarning("the reply was cut off and was not added to the conversation")
		default:
			var se *studyclient.StreamError
			if errors.As(err, &se) {
				printWarning(se.Message)
				continue
			}
			return err
		}
	}
}
