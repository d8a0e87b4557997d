package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogJSON emits entry as one JSON line on l, stamping ts and level when missing.
func LogJSON(l *log.Logger, level, msg string, entry map[string]any) {
	if l == nil {
		l = Logger()
	}
	line := make(map[string]any, len(entry)+3)
	for k, v := range entry {
		line[k] = v
	}
	if _, ok := line["ts"]; !ok {
		line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line["level"] = level
	line["msg"] = msg
	data, err := json.Marshal(line)
	if err != nil {
		l.Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	l.Println(string(data))
}
