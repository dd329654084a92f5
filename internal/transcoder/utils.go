package transcoder

import "os"

// maxStderrTail bounds how much ffmpeg chatter ends up in an error
const maxStderrTail = 2048

// removeFile removes a file, ignoring errors
func removeFile(path string) {
	os.Remove(path)
}

// tail returns the last n bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
