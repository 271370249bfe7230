package workflow

import (
	"fmt"
	"strings"
)

const defaultMachineTitle = "Your state machine"

// ArtifactURL joins the public base URL and a storage key.
func ArtifactURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + key
}

// CommentBody formats the review comment that embeds a rendered machine.
func CommentBody(machineName, imageURL string) string {
	title := machineName
	if title == "" {
		title = defaultMachineTitle
	}

	var sb strings.Builder
	sb.WriteString("Here's your state machine:\n\n")
	fmt.Fprintf(&sb, "![%s](%s)\n\n", title, imageURL)
	sb.WriteString("Rendered by machine-sentry from the definition that starts on this line. ")
	sb.WriteString("A new diagram is posted whenever a push changes it.\n")
	return sb.String()
}
