package control

import "fmt"

// Command builders for the subset of the control protocol torrer speaks.
// Every builder returns a CRLF-terminated line.

func AuthenticateCommand(hexCookie string) string {
	if hexCookie == "" {
		return "AUTHENTICATE\r\n"
	}
	return fmt.Sprintf("AUTHENTICATE %s\r\n", hexCookie)
}

func GetInfoCommand(key string) string {
	return fmt.Sprintf("GETINFO %s\r\n", key)
}

func GetConfCommand(key string) string {
	return fmt.Sprintf("GETCONF %s\r\n", key)
}

func SetConfCommand(key, value string) string {
	return fmt.Sprintf("SETCONF %s=%s\r\n", key, value)
}

func SignalNewNymCommand() string {
	return "SIGNAL NEWNYM\r\n"
}
