package emulator

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"lurecage/internal/schema"
)

// responseRule matches a normalized command and renders canned output.
// Rules are checked in order; the first match wins.
type responseRule struct {
	match   func(cmd string) bool
	respond func(raw, cmd string) string
}

func exact(s string) func(string) bool {
	return func(cmd string) bool { return cmd == s }
}

func prefix(s string) func(string) bool {
	return func(cmd string) bool { return strings.HasPrefix(cmd, s) }
}

func static(out string) func(string, string) string {
	return func(string, string) string { return out }
}

const lsLongOutput = `total 84
drwxr-xr-x 22 root root  4096 Jan 15 10:30 .
drwxr-xr-x 23 root root  4096 Dec 23 08:15 ..
-rw-------  1 root root  1234 Jan 14 09:20 .bash_history
-rw-r--r--  1 root root  2043 Jan 01 00:00 .bashrc
drwxr-xr-x  2 root root  4096 Nov 30 12:45 backups
-rwxr-xr-x  1 root root  8192 Jan 02 15:20 cronjob.sh
drwxr-xr-x  3 root root  4096 Dec 15 14:30 data
-rw-r--r--  1 root root  1024 Jan 10 18:30 config.ini
-rwxr-xr-x  1 root root  4096 Dec 28 16:45 deploy.sh
drwxr-xr-x  2 root root  4096 Jan 05 11:20 logs
drwxrwxr-x  2 root root  4096 Dec 20 09:15 temp
-rwxr-xr-x  1 root root  2048 Jan 12 13:25 update.sh
-rwxr-xr-x  1 root root  512  Dec 18 07:30 watchdog.sh`

const lsShortOutput = `backups  config.ini  cronjob.sh  data  deploy.sh  logs  temp  update.sh  watchdog.sh`

const psAuxOutput = `USER       PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND
root         1  0.0  0.1 225836  9216 ?        Ss   Jan15   0:02 /sbin/init
root         2  0.0  0.0      0     0 ?        S    Jan15   0:00 [kthreadd]
root         3  0.0  0.0      0     0 ?        I<   Jan15   0:00 [rcu_gp]
root         4  0.0  0.0      0     0 ?        I<   Jan15   0:00 [rcu_par_gp]
root         5  0.0  0.0      0     0 ?        I<   Jan15   0:00 [netns]
root        87 0.0 0.3 201532 24784 ?        Ss   Jan15   0:00 sshd: /usr/sbin/sshd [listener]
root       234 0.0 0.1 185268  8504 ?        Ss   Jan15   0:00 crond`

const passwdOutput = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
bin:x:2:2:bin:/bin:/usr/sbin/nologin
sys:x:3:3:sys:/dev:/usr/sbin/nologin
sync:x:4:65534:sync:/bin:/bin/sync
games:x:5:60:games:/usr/games:/usr/sbin/nologin
man:x:6:12:man:/var/cache/man:/usr/sbin/nologin
lp:x:7:7:lp:/var/spool/lpd:/usr/sbin/nologin
mail:x:8:8:mail:/var/mail:/usr/sbin/nologin
news:x:9:9:news:/var/spool/news:/usr/sbin/nologin`

const netstatOutput = `Active Internet connections (only servers)
Proto Recv-Q Send-Q Local Address           Foreign Address         State
tcp        0      0 0.0.0.0:22              0.0.0.0:*               LISTEN
tcp        0      0 127.0.0.1:6379          0.0.0.0:*               LISTEN
tcp6       0      0 :::22                    :::*                    LISTEN
tcp6       0      0 :::80                    :::*                    LISTEN`

const httpFetchOutput = `Connected to example.com (93.184.216.34:80)
HTTP/1.1 200 OK
Date: Mon, 15 Jan 2024 10:30:45 GMT
Server: nginx/1.18.0
Content-Type: text/html; charset=UTF-8

<html>
<head><title>Welcome to Example Server</title></head>
<body><h1>Server is running</h1></body>
</html>`

const freeOutput = `              total        used        free      shared  buff/cache   available
Mem:        8053068     2048560     1234567       245678     4770941     3456789
Swap:       2097148           0     2097148`

const dfOutput = `Filesystem     Size  Used Avail Use% Mounted on
/dev/sda1       20G  8.5G   11G  45% /
/dev/sda2        8G  2.1G  5.9G  27% /var
tmpfs          3.9G     0  3.9G   0% /dev/shm`

const historyOutput = `   1  ls -la
   2  whoami
   3  pwd
   4  date
   5  uptime
   6  ps aux`

const envOutput = `PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin
TERM=xterm-256color
SHELL=/bin/bash
HOME=/root
USER=root
PWD=/root`

// responseRules is the prioritized rule table. Longer, more specific
// matches come before their generic prefixes.
var responseRules = []responseRule{
	{
		match: prefix("ls"),
		respond: func(_, cmd string) string {
			if strings.Contains(cmd, "-la") || strings.Contains(cmd, "-a") {
				return lsLongOutput
			}
			return lsShortOutput
		},
	},
	{match: exact("pwd"), respond: static("/root")},
	{match: exact("whoami"), respond: static("root")},
	{match: prefix("uname"), respond: static("Linux server 5.4.0-94-generic #106-Ubuntu SMP Thu Jan 6 23:58:14 UTC 2022 x86_64 x86_64 x86_64 GNU/Linux")},
	{match: exact("id"), respond: static("uid=0(root) gid=0(root) groups=0(root)")},
	{match: prefix("ps aux"), respond: static(psAuxOutput)},
	{match: prefix("cat /etc/passwd"), respond: static(passwdOutput)},
	{match: prefix("netstat"), respond: static(netstatOutput)},
	{match: prefix("curl"), respond: static(httpFetchOutput)},
	{match: prefix("wget"), respond: static(httpFetchOutput)},
	{match: prefix("python"), respond: static("Python 3.8.10 (default, Jun 22 2022, 20:18:18)\n[GCC 9.4.0] on linux")},
	{
		match: prefix("date"),
		respond: func(string, string) string {
			return fmt.Sprintf("Mon Jan 15 %s UTC 2024", time.Now().UTC().Format("15:04:05"))
		},
	},
	{match: prefix("uptime"), respond: static(" 10:30:45 up 23 days, 8:45, 1 user, load average: 0.08, 0.03, 0.00")},
	{match: prefix("free"), respond: static(freeOutput)},
	{match: prefix("df"), respond: static(dfOutput)},
	{match: prefix("history"), respond: static(historyOutput)},
	{match: prefix("env"), respond: static(envOutput)},
	{
		match: prefix("echo"),
		respond: func(raw, _ string) string {
			return `"` + strings.TrimSpace(trimCommandWord(raw)) + `"`
		},
	},
	{
		match: prefix("touch"),
		respond: func(raw, _ string) string {
			return fmt.Sprintf("touch: creating file '%s': Permission denied", strings.TrimSpace(trimCommandWord(raw)))
		},
	},
	{match: prefix("mkdir"), respond: static("mkdir: cannot create directory 'test': File exists")},
	{match: prefix("rm"), respond: static("rm: cannot remove '/root/test': No such file or directory")},
	{match: prefix("su "), respond: static("Authenticate as super user:")},
	{match: prefix("sudo"), respond: static("Authenticate as super user:")},
}

// trimCommandWord drops the first word of the raw command, preserving
// the original casing of the arguments.
func trimCommandWord(raw string) string {
	fields := strings.SplitN(strings.TrimSpace(raw), " ", 2)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// Respond renders the canned shell output for one command. Unknown
// commands get the generic bash error. Nothing is ever executed.
func Respond(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)

	for _, rule := range responseRules {
		if rule.match(lower) {
			return rule.respond(trimmed, lower)
		}
	}
	return fmt.Sprintf("-bash: %s: command not found", strings.Fields(trimmed)[0])
}

var suspiciousIndicators = []string{
	"\nWarning: Suspicious activity detected",
	"\nSystem integrity check initiated...",
	"\nAccess denied to secure component",
	"\n[ALERT] Security module activated",
	"\nMonitoring command execution...",
}

var warningIndicators = []string{
	"\nNote: Command logged for security audit",
	"\nWarning: Unusual command pattern detected",
	"\nSystem monitoring active",
}

// Decorate appends a threat-dependent trailer to the base response so
// dangerous commands get slightly unnerving output.
func Decorate(response string, level schema.ThreatLevel) string {
	switch level {
	case schema.ThreatHigh, schema.ThreatCritical:
		return response + suspiciousIndicators[rand.Intn(len(suspiciousIndicators))]
	case schema.ThreatMedium:
		return response + warningIndicators[rand.Intn(len(warningIndicators))]
	}
	return response
}
