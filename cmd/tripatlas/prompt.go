package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// confirm asks the user a y/N question on stderr and reads the answer from
// stdin. Anything but "y" declines.
func confirm(cmd *cobra.Command, message string) (bool, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Fprint(cmd.ErrOrStderr(), message)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "y", nil
}
