package bridge

import (
	"fmt"
	"strings"

	"reactorboard/pkg/domain"
)

// DefaultTopicRoot prefixes every topic when none is configured.
const DefaultTopicRoot = "pioreactor"

// Source tags events recorded through the bridge.
const Source = "ui"

// LogTopic returns {root}/{leaderHost}/{experiment}/logs/ui/{level}.
func LogTopic(root, leaderHost, experiment string, level domain.Level) string {
	if root == "" {
		root = DefaultTopicRoot
	}
	return fmt.Sprintf("%s/%s/%s/logs/%s/%s", root, leaderHost, experiment, Source, level.Lower())
}

// LogSubscription matches the log topics of every unit, experiment, source
// and level under root.
func LogSubscription(root string) string {
	if root == "" {
		root = DefaultTopicRoot
	}
	return root + "/+/+/logs/+/+"
}

// LogTopicParts are the variable segments of a log topic.
type LogTopicParts struct {
	Unit       string
	Experiment string
	Source     string
	Level      domain.Level
}

// ParseLogTopic splits a log topic published under root.
func ParseLogTopic(root, topic string) (LogTopicParts, error) {
	if root == "" {
		root = DefaultTopicRoot
	}
	rest, ok := strings.CutPrefix(topic, root+"/")
	if !ok {
		return LogTopicParts{}, domain.ValidationError{Field: "topic", Reason: fmt.Sprintf("%q is not under %q", topic, root)}
	}
	seg := strings.Split(rest, "/")
	if len(seg) != 5 || seg[2] != "logs" {
		return LogTopicParts{}, domain.ValidationError{Field: "topic", Reason: fmt.Sprintf("%q is not a log topic", topic)}
	}
	level, _ := domain.ParseLevel(seg[4])
	return LogTopicParts{Unit: seg[0], Experiment: seg[1], Source: seg[3], Level: level}, nil
}
