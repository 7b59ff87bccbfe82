package endpoint

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// addressField 行首的 IPv4/IPv6 地址
var addressField = regexp.MustCompile(`(?i)^[a-f0-9:.]+$`)

// LoadHosts 读取 hosts 风格文件，跳过空行与 #、! 注释；
// 行首为地址时取其后的第一个主机名，否则取第一个字段
func LoadHosts(r io.Reader) ([]string, error) {
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		host := fields[0]
		if len(fields) > 1 && addressField.MatchString(fields[0]) {
			host = fields[1]
		}
		hosts = append(hosts, host)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hosts: %w", err)
	}
	return hosts, nil
}

// LoadHostsFile 从文件读取主机列表
func LoadHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hosts file: %w", err)
	}
	defer f.Close()
	return LoadHosts(f)
}
