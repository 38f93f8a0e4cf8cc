package cmdgate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// LoadConversationFromFile reads a JSON array of contents written by
// SaveConversationToFile. A missing or unreadable file yields an empty
// history and a warning, so a chat can always start.
func LoadConversationFromFile(filepath string) []*genai.Content {
	if filepath == "" {
		return nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("could not read conversation file %q, starting with empty history", filepath)
		}
		return nil
	}

	var conversation []*genai.Content
	if err := json.Unmarshal(data, &conversation); err != nil {
		logrus.WithError(err).Warnf("could not parse conversation file %q, starting with empty history", filepath)
		return nil
	}

	logrus.Debugf("loaded %d conversation entries from %s", len(conversation), filepath)
	return conversation
}

func SaveConversationToFile(filepath string, conversation []*genai.Content) error {
	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling conversation: %w", err)
	}
	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("writing conversation file %q: %w", filepath, err)
	}
	return nil
}
