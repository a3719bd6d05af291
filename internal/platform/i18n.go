package platform

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var supported = []language.Tag{
	language.English,
	language.SimplifiedChinese,
}

var matcher = language.NewMatcher(supported)

func init() {
	zh := language.SimplifiedChinese
	for _, m := range []struct{ key, msg string }{
		{"Language server process %s was not found on %s", "在 %[2]s 上未找到语言服务器进程 %[1]s"},
		{"Could not run ps or lsof; make sure lsof (or ss/netstat) is installed and on PATH", "无法执行 ps 或 lsof；请确认已安装 lsof（或 ss/netstat）并在 PATH 中"},
		{"Could not run wmic or netstat; run from a standard Windows command prompt", "无法执行 wmic 或 netstat；请在标准 Windows 命令提示符中运行"},
		{"Make sure the IDE is running and you are signed in", "请确认 IDE 正在运行且已登录"},
		{"Make sure the %s process is running", "请确认 %s 进程正在运行"},
		{"Make sure lsof is installed (ss or netstat are used as fallback)", "请确认已安装 lsof（ss 或 netstat 作为备用）"},
		{"Make sure the language server listens on 127.0.0.1", "请确认语言服务器监听在 127.0.0.1 上"},
		{"Make sure wmic and netstat are available (Windows Management Instrumentation enabled)", "请确认 wmic 和 netstat 可用（已启用 Windows Management Instrumentation）"},
		{"Make sure the firewall allows connections to 127.0.0.1", "请确认防火墙允许连接 127.0.0.1"},
	} {
		_ = message.SetString(zh, m.key, m.msg)
	}
}

// MatchLanguage picks the best supported language for the given preferences.
// Preferences may be BCP 47 tags ("zh-CN") or POSIX locale strings
// ("zh_CN.UTF-8"); empty values are skipped. English is the fallback.
func MatchLanguage(prefs ...string) language.Tag {
	var tags []language.Tag
	for _, pref := range prefs {
		pref = normalizeLocale(pref)
		if pref == "" {
			continue
		}
		if tag, err := language.Parse(pref); err == nil {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return language.English
	}

	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

func normalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "C" || s == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(s, "_", "-")
}
