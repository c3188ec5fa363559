package worldstate

import (
	"fmt"
	"strconv"
	"strings"
)

func sprintfDay(day, hour, minute int, period string) string {
	return fmt.Sprintf("第%d天 %02d:%02d (%s)", day, hour, minute, period)
}

func sprintfKey(format, sessionID string) string {
	return fmt.Sprintf(format, sessionID)
}

func itoa(v int) string { return strconv.Itoa(v) }

func joinLines(lines []string) string { return strings.Join(lines, "\n") }
