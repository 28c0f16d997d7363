package model

// ServiceInfo 端口对应的服务
type ServiceInfo struct {
	Name        string
	Description string
}

// CommonPorts 常见端口映射，服务识别失败时的兜底
var CommonPorts = map[int]ServiceInfo{
	21:    {"FTP", "文件传输协议"},
	22:    {"SSH", "安全外壳协议"},
	23:    {"Telnet", "远程登录协议"},
	25:    {"SMTP", "简单邮件传输协议"},
	53:    {"DNS", "域名系统"},
	80:    {"HTTP", "网页服务器"},
	110:   {"POP3", "邮局协议第3版"},
	143:   {"IMAP", "互联网消息访问协议"},
	443:   {"HTTPS", "安全网页服务器"},
	445:   {"SMB", "服务器消息块"},
	993:   {"IMAPS", "基于SSL的IMAP"},
	995:   {"POP3S", "基于SSL的POP3"},
	1433:  {"MSSQL", "微软SQL Server"},
	1521:  {"Oracle DB", "Oracle数据库"},
	3306:  {"MySQL", "数据库"},
	3389:  {"RDP", "远程桌面协议"},
	5432:  {"PostgreSQL", "数据库"},
	5900:  {"VNC", "虚拟网络计算"},
	6379:  {"Redis", "数据库"},
	8080:  {"HTTP Proxy", "备用HTTP"},
	8443:  {"HTTPS Alt", "备用HTTPS"},
	27017: {"MongoDB", "NoSQL数据库"},
}

// ServiceByPort 按端口查表，未知端口返回 "Unknown"
func ServiceByPort(port int) string {
	if info, ok := CommonPorts[port]; ok {
		return info.Name
	}
	return "Unknown"
}

// BasicPorts 子网扫描时对在线主机探测的端口
var BasicPorts = []int{21, 22, 23, 25, 53, 80, 110, 135, 139, 443, 445, 3306, 3389, 8080}

// Top100Ports 单主机精确扫描的端口列表
var Top100Ports = []int{
	7, 20, 21, 22, 23, 25, 26, 53, 80, 81, 88, 110, 111, 113, 119, 135, 137, 138, 139, 143, 179, 199,
	389, 443, 445, 465, 513, 514, 515, 548, 554, 587, 631, 636, 873, 993, 995,
	1433, 1521, 1723, 2000, 2049, 2121, 2222, 2375, 2376, 2525, 3000, 3128, 3306, 3389, 3690, 4000,
	4444, 4567, 5000, 5001, 5060, 5432, 5800, 5900, 5901, 6000, 6001, 6379, 6667, 8000, 8008, 8080, 8081,
	8090, 8181, 8443, 8500, 8888, 9000, 9090, 9200, 9300, 10000, 27017, 27018, 50000,
}

// LivenessProbePorts ICMP 不通时用来判断主机是否在线的端口
var LivenessProbePorts = []int{135, 445, 80}
