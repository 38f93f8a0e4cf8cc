package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/dhamidi/cmdgate"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var conversationPath string
	var raw bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model, letting it run catalogue commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			agent, err := a.agent(cmdgate.LoadConversationFromFile(conversationPath))
			if err != nil {
				return err
			}

			var display Display = &GlamourDisplay{RawDisplay{Out: cmd.OutOrStdout()}}
			if raw {
				display = &RawDisplay{Out: cmd.OutOrStdout()}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Chat with %s (use 'Ctrl-d' to quit)\n", agent.ModelName())
			fmt.Fprintf(cmd.OutOrStdout(), "Available commands: %s\n", strings.Join(a.registry.Names(), ", "))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				display.Prompt(len(agent.History()))
				if !scanner.Scan() {
					break
				}
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}

				reply, err := agent.Send(ctx, message)
				if err != nil {
					display.Error("%v", err)
					continue
				}
				for _, call := range reply.ToolCalls {
					status := "ok"
					if call.Error != "" {
						status = call.Error
					}
					display.Message("Tool", "95", len(agent.History()), fmt.Sprintf("%s(%s): %s", call.Name, cmdgate.AsJSON(call.Args), cmdgate.CropText(status, 200)))
				}
				display.Message("Gemini", "93", len(agent.History()), reply.Text)
			}

			if conversationPath != "" {
				if err := cmdgate.SaveConversationToFile(conversationPath, agent.History()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nConversation saved to %s\n", conversationPath)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&conversationPath, "conversation", "c", "", "JSON file to continue the conversation from and save it to")
	cmd.Flags().BoolVar(&raw, "raw", false, "print replies without markdown rendering")
	return cmd
}
