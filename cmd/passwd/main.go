// Command passwd prints a staff account entry for the gymdesk config file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gymdesk/internal/staff"
)

func main() {
	username := flag.String("user", "", "staff username")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: passwd -user NAME [-name DISPLAY] < password")
		os.Exit(2)
	}

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		fmt.Fprintln(os.Stderr, "read password:", err)
		os.Exit(1)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "password must not be empty")
		os.Exit(1)
	}

	hash, salt, err := staff.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	display := *name
	if display == "" {
		display = *username
	}
	fmt.Printf("    - username: %s\n      name: %q\n      password_hash: %s\n      salt: %s\n", *username, display, hash, salt)
}
