package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"os"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use: "completion bash",
	Short: "Print shell completion code for the specified shell (bash); evaluate it " +
		"to enable interactive completion of dartcov commands",
	Long: `To load completions:

Bash:

  $ source <(dartcov completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ dartcov completion bash > /etc/bash_completion.d/dartcov
  # macOS:
  $ dartcov completion bash > $(brew --prefix)/etc/bash_completion.d/dartcov`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Printf("Error: No shell specified")
			return
		}
		switch args[0] {
		case "bash":
			err := cmd.Root().GenBashCompletion(os.Stdout)
			if err != nil {
				fmt.Printf("Error: Unable to generate a bash completion")
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
