package service

import (
	"fmt"
	"time"
)

func shareLinkEmailTemplate(fileName, shareURL string, expiresAt time.Time, appName string) (string, string) {
	subject := fmt.Sprintf("%s shared with you on %s", fileName, appName)
	body := fmt.Sprintf(`A file has been shared with you: %s

Download it here:
%s

This link expires on %s. Anyone with the link can download the file until then.

Best,
The %s Team`, fileName, shareURL, expiresAt.UTC().Format("Jan 2, 2006 15:04 MST"), appName)

	return subject, body
}
