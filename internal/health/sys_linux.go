//go:build linux

package health

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksPerSecond is fixed at 100 on essentially every Linux build
// go runs on; reading it via sysconf would need cgo, which this module
// otherwise avoids entirely.
const clockTicksPerSecond = 100

type linuxSysReader struct {
	pid int
}

func defaultSysReader() sysReader {
	return linuxSysReader{pid: os.Getpid()}
}

// Sample reads CPU ticks from /proc/self/stat, RSS from
// /proc/self/status, and IO byte counters from /proc/self/io.
func (r linuxSysReader) Sample() (sysSample, error) {
	utime, stime, err := readStatTimes()
	if err != nil {
		return sysSample{}, err
	}
	rssKB, err := readStatusRSSKB()
	if err != nil {
		return sysSample{}, err
	}
	readBytes, writeBytes, err := readIOBytes()
	if err != nil {
		// /proc/self/io requires CAP_SYS_PTRACE-equivalent privilege on
		// some hardened kernels; degrade to CPU/RSS only rather than fail.
		readBytes, writeBytes = 0, 0
	}
	return sysSample{
		At:          time.Now(),
		CPUTimeS:    float64(utime+stime) / clockTicksPerSecond,
		RSSKB:       rssKB,
		IOReadBytes: readBytes,
		IOWriteBytes: writeBytes,
	}, nil
}

func readStatTimes() (utime, stime int64, err error) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, 0, err
	}
	// Fields after the comm field (which may itself contain spaces,
	// delimited by the last ')') are space-separated; utime/stime are
	// fields 14/15 counting from 1.
	end := strings.LastIndexByte(string(data), ')')
	if end < 0 || end+2 > len(data) {
		return 0, 0, fmt.Errorf("health: malformed /proc/self/stat")
	}
	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 14 {
		return 0, 0, fmt.Errorf("health: short /proc/self/stat")
	}
	utime, err = strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err = strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return utime, stime, nil
}

func readStatusRSSKB() (int64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, fmt.Errorf("health: VmRSS not found in /proc/self/status")
}

func readIOBytes() (read, write int64, err error) {
	f, err := os.Open("/proc/self/io")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "read_bytes:"):
			read, _ = strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "read_bytes:")), 10, 64)
		case strings.HasPrefix(line, "write_bytes:"):
			write, _ = strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "write_bytes:")), 10, 64)
		}
	}
	return read, write, nil
}
