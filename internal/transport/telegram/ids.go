package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// A channel (and resource) id is "<chat id>:<forum thread id>". Thread 0 is
// the chat itself. A message ref is "<chat id>:<message id>".

// ChannelID formats the id of a forum topic.
func ChannelID(chatID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

// ParseChannel splits a channel id. A bare chat id means thread 0.
func ParseChannel(id string) (chatID int64, threadID int, err error) {
	chatPart, threadPart, found := strings.Cut(strings.TrimSpace(id), ":")
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid channel id %q", id)
	}
	if !found {
		return chatID, 0, nil
	}
	threadID, err = strconv.Atoi(threadPart)
	if err != nil || threadID < 0 {
		return 0, 0, fmt.Errorf("invalid channel id %q", id)
	}
	return chatID, threadID, nil
}

func messageRef(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseMessageRef(ref string) (chatID int64, messageID int, err error) {
	chatPart, msgPart, found := strings.Cut(ref, ":")
	if !found {
		return 0, 0, fmt.Errorf("invalid message ref %q", ref)
	}
	if chatID, err = strconv.ParseInt(chatPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid message ref %q", ref)
	}
	if messageID, err = strconv.Atoi(msgPart); err != nil {
		return 0, 0, fmt.Errorf("invalid message ref %q", ref)
	}
	return chatID, messageID, nil
}
