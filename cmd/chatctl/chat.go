package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/sales-knowledge-assistant/internal/bootstrap"
	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

func chatCmd() *cobra.Command {
	var userID string
	var chatID string
	var flow string
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Run one chat turn and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := bootstrap.New(ctx, config.Load(), "chatctl")
			if err != nil {
				return err
			}
			defer app.Close()

			if chatID == "" {
				chat := &domain.Chat{
					UserID:     userID,
					EngineName: app.Engine.Name,
					FlowType:   domain.ChatFlowType(flow),
					Title:      "chatctl",
				}
				if err := app.Chats.CreateChat(ctx, chat); err != nil {
					return err
				}
				chatID = chat.ID
				fmt.Fprintf(os.Stderr, "chat: %s\n", chatID)
			}

			events := app.Chat.Chat(ctx, domain.ChatRequest{
				ChatID:   chatID,
				UserID:   userID,
				Question: strings.Join(args, " "),
			})
			return printEvents(cmd.OutOrStdout(), os.Stderr, events)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "CRM user id")
	cmd.Flags().StringVar(&chatID, "chat", "", "Existing chat id; a new chat is created when empty")
	cmd.Flags().StringVar(&flow, "flow", string(domain.ChatFlowDefault), "Flow type for a new chat")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// printEvents writes answer text to out and progress to progress. It returns
// an error when the turn ended with an error event.
func printEvents(out, progress io.Writer, events <-chan domain.ChatEvent) error {
	var failure string
	for ev := range events {
		switch ev.Type {
		case domain.EventText:
			text, _ := ev.Payload.(string)
			fmt.Fprint(out, text)
		case domain.EventAnnotation:
			a, ok := ev.Payload.(domain.AnnotationPayload)
			if !ok {
				continue
			}
			switch {
			case a.Display != "":
				fmt.Fprintf(progress, "[%s] %s\n", a.State, a.Display)
			case a.Message != "":
				fmt.Fprintf(progress, "[%s] %s\n", a.State, a.Message)
			}
		case domain.EventData:
			if d, ok := ev.Payload.(domain.DataPayload); ok && len(d.AssistantMessage.Sources) > 0 {
				body, _ := json.Marshal(d.AssistantMessage.Sources)
				fmt.Fprintf(progress, "sources: %s\n", body)
			}
		case domain.EventError:
			failure, _ = ev.Payload.(string)
		}
	}
	fmt.Fprintln(out)
	if failure != "" {
		return fmt.Errorf("chat turn failed: %s", failure)
	}
	return nil
}
