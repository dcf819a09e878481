package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"planbot/internal/clock"
)

var (
	timeTokenRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	idSplitRe   = regexp.MustCompile(`[\s,]+`)
)

// parseDay accepts relative words, DD.MM.YYYY and YYYY-MM-DD and returns the
// stored date form.
func parseDay(word string, today time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "today", "сегодня":
		return today.Format(clock.DateLayout), nil
	case "tomorrow", "завтра":
		return today.AddDate(0, 0, 1).Format(clock.DateLayout), nil
	}
	if d, err := time.Parse("02.01.2006", word); err == nil {
		return d.Format(clock.DateLayout), nil
	}
	if _, err := clock.ParseDate(word); err != nil {
		return "", err
	}
	return word, nil
}

type planArgs struct {
	date     string
	reminder string
	topic    string
	body     string
}

// parsePlan reads "<date> [HH:MM] <topic> [| details]".
func parsePlan(args string, today time.Time) (planArgs, error) {
	head, body, _ := strings.Cut(args, "|")
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return planArgs{}, errUsage
	}
	date, err := parseDay(fields[0], today)
	if err != nil {
		return planArgs{}, err
	}
	out := planArgs{date: date, body: strings.TrimSpace(body)}
	rest := fields[1:]
	if len(rest) > 0 && timeTokenRe.MatchString(rest[0]) {
		out.reminder = rest[0]
		rest = rest[1:]
	}
	out.topic = strings.Join(rest, " ")
	return out, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errBadID, s)
	}
	return id, nil
}

// parseIDs reads ids separated by spaces or commas.
func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range idSplitRe.Split(strings.TrimSpace(s), -1) {
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errUsage
	}
	return out, nil
}

// splitCommand separates "/cmd@bot args" into "cmd" and "args".
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head[1:], "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}
