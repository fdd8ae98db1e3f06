package email

import (
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Validate(t *testing.T) {
	assert.Error(t, Message{}.Validate())
	assert.Error(t, Message{To: []string{"not-an-address"}}.Validate())
	assert.NoError(t, Message{To: []string{"supervisor@rail.example", "Dispatch <ops@rail.example>"}}.Validate())
}

func TestMessage_Bytes(t *testing.T) {
	msg := Message{
		From:    mail.Address{Name: "Proximity Alerts", Address: "alerts@rail.example"},
		To:      []string{"a@rail.example", "b@rail.example"},
		Subject: "Authority overlap on VENTURA",
		Body:    "line one\nline two",
		Date:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	raw := string(msg.Bytes())

	assert.Contains(t, raw, "From: \"Proximity Alerts\" <alerts@rail.example>\r\n")
	assert.Contains(t, raw, "To: a@rail.example, b@rail.example\r\n")
	assert.Contains(t, raw, "Subject: Authority overlap on VENTURA\r\n")
	assert.Contains(t, raw, "Date: Wed, 01 May 2024 09:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two\r\n"))
}
