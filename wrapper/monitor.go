package wrapper

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// SendFunc delivers one chunk of monitor output to the owning session.
type SendFunc func(data string)

const monitorPoll = time.Second

// FileMonitor streams a text file to the client: the current contents on
// start, then any appended data as the file grows. Rewritten (shrunk)
// files restart from the beginning.
type FileMonitor struct {
	path string
	send SendFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewFileMonitor creates a monitor for path. The file must exist and be
// readable.
func NewFileMonitor(path string, send SendFunc) (*FileMonitor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("monitor %s: %w", path, err)
	}
	f.Close()
	return &FileMonitor{
		path: path,
		send: send,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start begins polling in a background goroutine.
func (m *FileMonitor) Start() {
	go m.poll()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (m *FileMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *FileMonitor) poll() {
	defer close(m.done)

	var offset int64
	ticker := time.NewTicker(monitorPoll)
	defer ticker.Stop()

	offset = m.emit(0)
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			info, err := os.Stat(m.path)
			if err != nil {
				continue
			}
			if info.Size() < offset {
				offset = 0 // file was rewritten
			}
			if info.Size() > offset {
				offset = m.emit(offset)
			}
		}
	}
}

// emit sends the file contents from offset on and returns the new offset.
func (m *FileMonitor) emit(offset int64) int64 {
	f, err := os.Open(m.path)
	if err != nil {
		return offset
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}
	buf := make([]byte, 1<<16)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			m.send(string(buf[:n]))
			offset += int64(n)
		}
		if err != nil {
			return offset
		}
	}
}
