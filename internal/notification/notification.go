/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/internal/request"
)

// Slack posts operator alerts to an incoming-webhook URL.
// A Slack without a URL is disabled and drops every alert.
type Slack struct {
	webhookURL string
	client     *http.Client
	log        logrus.FieldLogger
}

func NewSlack(webhookURL string, log logrus.FieldLogger) *Slack {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: request.DefaultTimeout},
		log:        log,
	}
}

func (s *Slack) Enabled() bool {
	return s != nil && s.webhookURL != ""
}

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type block struct {
	Type   string       `json:"type"`
	Text   *textObject  `json:"text,omitempty"`
	Fields []textObject `json:"fields,omitempty"`
}

type message struct {
	Blocks []block `json:"blocks"`
}

func buildMessage(title string, systemError error, fields map[string]string, now time.Time) message {
	section := []textObject{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", systemError)}}
	for _, key := range sortedKeys(fields) {
		section = append(section, textObject{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", key, fields[key])})
	}
	return message{Blocks: []block{
		{Type: "header", Text: &textObject{Type: "plain_text", Text: title, Emoji: true}},
		{Type: "section", Fields: section},
		{Type: "section", Fields: []textObject{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", now.Format(time.RFC822))}}},
	}}
}

// Notify sends one alert and waits for Slack to accept it.
func (s *Slack) Notify(ctx context.Context, title string, systemError error, fields map[string]string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := request.PostJSON(ctx, s.client, s.webhookURL, nil, buildMessage(title, systemError, fields, time.Now()), nil)
	return err
}

// NotifyError logs systemError and forwards it to Slack in the background.
func (s *Slack) NotifyError(title string, systemError error, fields map[string]string) {
	s.log.WithFields(toLogFields(fields)).Error(systemError)
	if !s.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), request.DefaultTimeout)
		defer cancel()
		if err := s.Notify(ctx, title, systemError, fields); err != nil {
			s.log.WithError(err).Warn("slack notification failed")
		}
	}()
}

func toLogFields(fields map[string]string) logrus.Fields {
	out := logrus.Fields{}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
