package server

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/wrapper"
)

// command handles one verb. Handlers send their own replies so that
// worker-deferred operations can reply asynchronously.
type command func(h *Handler, args []string)

// commands is the static verb table, including aliases. Verbs the legacy
// protocol recognizes but does not implement reply with a tagged
// "not implemented" error instead of "not recognized".
var commands = map[string]command{
	"describe": cmdDescribe,
	"d":        cmdDescribe,
	"start":    cmdStart,
	"end":      cmdEnd,
	"execute":  cmdExecute,
	"x":        cmdExecute,
	"get":      cmdGet,
	"set":      cmdSet,
	"invoke":   cmdInvoke,

	"listProperties": cmdListProperties,
	"list":           cmdListProperties,
	"ls":             cmdListProperties,
	"l":              cmdListProperties,
	"listValues":     cmdListValues,
	"lv":             cmdListValues,
	"listValuesURL":  cmdListValuesURL,
	"lvu":            cmdListValuesURL,
	"listMethods":    cmdListMethods,
	"lm":             cmdListMethods,
	"listMonitors":   cmdListMonitors,
	"lo":             cmdListMonitors,
	"listComponents": cmdListComponents,
	"lc":             cmdListComponents,
	"listCategories": cmdListCategories,
	"la":             cmdListCategories,
	"listGlobals":    cmdListGlobals,
	"lg":             cmdListGlobals,

	"getHierarchy":       cmdGetHierarchy,
	"getStatus":          cmdGetStatus,
	"getSysInfo":         cmdGetSysInfo,
	"getVersion":         cmdGetVersion,
	"getLicense":         cmdGetLicense,
	"getDirectTransfer":  cmdGetDirectTransfer,
	"getBranchesAndTags": cmdGetBranches,
	"setDictionary":      cmdSetDictionary,
	"versions":           cmdVersions,
	"v":                  cmdVersions,
	"ps":                 cmdPs,
	"monitor":            cmdMonitor,
	"heartbeat":          cmdHeartbeat,
	"hb":                 cmdHeartbeat,
	"setMode":            cmdSetMode,
	"help":               cmdHelp,
	"h":                  cmdHelp,
	"quit":               cmdQuit,

	"listArrayValues":   cmdListArrayValues,
	"lav":               cmdListArrayValues,
	"move":              cmdMove,
	"rename":            cmdMove,
	"mv":                cmdMove,
	"rn":                cmdMove,
	"getIcon":           cmdGetIcon,
	"getIcon2":          notImplemented("getIcon2"),
	"setServerAuthInfo": notImplemented("setServerAuthInfo"),
	"addProxyClients":   notImplemented("addProxyClients"),
	"getByUrl":          notImplemented("getByUrl"),
	"setByUrl":          notImplemented("setByUrl"),
	"deleteRunShare":    notImplemented("deleteRunShare"),
	"getQueues":         notImplemented("getQueues"),
	"setRunQueue":       notImplemented("setRunQueue"),
	"setHierarchy":      notImplemented("setHierarchy"),
}

func notImplemented(verb string) command {
	return func(h *Handler, args []string) {
		h.sendErr(errors.NotImplemented(verb), h.reqID)
	}
}

// getComponent looks up a published component reference (optionally
// quoted, optionally '/'-rooted, optionally '?version'-suffixed).
func (h *Handler) getComponent(typ string) *registry.Entry {
	typ = strings.TrimLeft(strings.Trim(typ, `"`), "/")
	name, _, _ := strings.Cut(typ, "?")
	if entry, ok := h.server.registry.Lookup(name); ok {
		return entry
	}
	if !strings.Contains(typ, "/") {
		typ = "/" + typ
	}
	h.sendError(fmt.Sprintf("component <%s> does not match a known component", typ), h.reqID)
	return nil
}

func cmdDescribe(h *Handler, args []string) {
	if len(args) < 1 || len(args) > 2 {
		h.sendErr(errors.InvalidSyntax("describe,d <category/component> [-xml]"), h.reqID)
		return
	}
	cfg := h.getComponent(args[0])
	if cfg == nil {
		return
	}
	hasVersionInfo := "false"
	timestamp := cfg.Timestamp.Format(time.ANSIC)

	if len(args) > 1 && args[1] == "-xml" {
		h.sendReply(fmt.Sprintf(`<Description>
 <Version>%s</Version>
 <Author>%s</Author>
 <Description>%s</Description>
 <HelpURL>%s</HelpURL>
 <Keywords>%s</Keywords>
 <TimeStamp>%s</TimeStamp>
 <Checksum>%d</Checksum>
 <Requirements>%s</Requirements>
 <hasIcon>%s</hasIcon>
 <HasVersionInfo>%s</HasVersionInfo>
</Description>`,
			cfg.Version, xmlEscape(cfg.Author), xmlEscape(cfg.Description),
			cfg.HelpURL, strings.Join(cfg.Keywords, " "), timestamp,
			cfg.Checksum, xmlEscape(strings.Join(cfg.Requirements, " ")),
			boolStr(cfg.HasIcon), hasVersionInfo), h.reqID)
		return
	}
	h.sendReply(fmt.Sprintf(`Version: %s
Author: %s
hasIcon: %s
Description: %s
Help URL: %s
Keywords: %s
Driver: false
Time Stamp: %s
Requirements: %s
HasVersionInfo: %s
Checksum: %d`,
		cfg.Version, cfg.Author, boolStr(cfg.HasIcon), cfg.Description,
		cfg.HelpURL, strings.Join(cfg.Keywords, " "), timestamp,
		strings.Join(cfg.Requirements, " "), hasVersionInfo, cfg.Checksum), h.reqID)
}

func cmdStart(h *Handler, args []string) {
	if len(args) < 2 || len(args) > 4 {
		h.sendErr(errors.InvalidSyntax("start <component> <instanceName> [connector] [queue]"), h.reqID)
		return
	}
	if len(args) > 2 {
		h.sendErr(errors.NotImplemented("start with connector or queue"), h.reqID)
		return
	}

	cfg := h.getComponent(args[0])
	if cfg == nil {
		return
	}
	name := args[1]

	h.mu.Lock()
	_, exists := h.instances[name]
	h.mu.Unlock()
	if exists {
		h.sendError(fmt.Sprintf("Name already in use: \"%s\"", name), h.reqID)
		return
	}

	h.logger.Info("starting instance", "name", name, "component", cfg.Name)
	sys, err := cfg.Factory()
	if err != nil {
		h.sendErr(errors.Internal(err), h.reqID)
		return
	}
	inst := &instance{
		comp:   wrapper.NewComponent(name, sys, cfg),
		worker: h.server.pool.Acquire(),
	}
	h.mu.Lock()
	h.instances[name] = inst
	h.mu.Unlock()

	if m := h.server.metrics; m != nil {
		m.InstancesActive.Inc()
	}
	h.server.events.InstanceStarted(h.conn.RemoteAddr().String(), name, cfg.Name)
	h.sendReply(fmt.Sprintf("Object %s started.", name), h.reqID)
}

func cmdEnd(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("end <object>"), h.reqID)
		return
	}
	name := args[0]
	h.logger.Info("ending instance", "name", name)
	if !h.endInstance(name) {
		h.sendErr(errors.NoSuchObject(name), h.reqID)
		return
	}
	h.sendReply(fmt.Sprintf("%s completed.\nObject %s ended.", name, name), h.reqID)
}

func cmdExecute(h *Handler, args []string) {
	if len(args) < 1 || len(args) > 2 {
		h.sendErr(errors.InvalidSyntax("execute,x <objectName>[&]"), h.reqID)
		return
	}
	name := args[0]
	background := false
	if strings.HasSuffix(name, "&") {
		background = true
		name = name[:len(name)-1]
	} else if len(args) > 1 && args[1] == "&" {
		background = true
	}

	client := h.conn.RemoteAddr().String()
	h.dispatchComp(name, background, func(c *wrapper.Component) (string, error) {
		reply, err := c.Run()
		if err == nil {
			h.server.events.InstanceExecuted(client, name)
		}
		return reply, err
	})
}

func cmdGet(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("get <object.property>"), h.reqID)
		return
	}
	name, path, _ := strings.Cut(args[0], ".")
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.Get(path)
	})
}

func cmdSet(h *Handler, args []string) {
	// The value may contain spaces, so parse from the raw request text.
	_, assignment, _ := strings.Cut(h.req, " ")
	lhs, rhs, _ := strings.Cut(assignment, "=")
	name, path, _ := strings.Cut(strings.TrimSpace(lhs), ".")
	value := strings.TrimSpace(rhs)
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.Set(path, value)
	})
}

func cmdInvoke(h *Handler, args []string) {
	if len(args) < 1 || len(args) > 2 {
		h.sendErr(errors.InvalidSyntax("invoke <object.method()> [full]"), h.reqID)
		return
	}
	name, method, _ := strings.Cut(args[0], ".")
	method = strings.TrimSuffix(method, "()")
	full := len(args) == 2 && args[1] == "full"
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.Invoke(method, full)
	})
}

func cmdListProperties(h *Handler, args []string) {
	if len(args) > 1 {
		h.sendErr(errors.InvalidSyntax("listProperties,list,ls,l [object]"), h.reqID)
		return
	}
	if len(args) == 0 {
		names := h.instanceNames()
		lines := []string{fmt.Sprintf("%d objects started:", len(names))}
		h.sendReply(strings.Join(append(lines, names...), "\n"), h.reqID)
		return
	}
	name, path, _ := strings.Cut(args[0], ".")
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.ListProperties(path)
	})
}

func cmdListValues(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("listValues,lv [object]"), h.reqID)
		return
	}
	name, path, _ := strings.Cut(args[0], ".")
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.ListValues(path)
	})
}

func cmdListValuesURL(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("listValuesURL,lvu [object]"), h.reqID)
		return
	}
	name, path, _ := strings.Cut(args[0], ".")
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.ListValuesURL(path)
	})
}

func cmdListArrayValues(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("listArrayValues,lav <object>"), h.reqID)
		return
	}
	name, path, _ := strings.Cut(args[0], ".")
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.ListArrayValues(path)
	})
}

func cmdListMethods(h *Handler, args []string) {
	if len(args) < 1 || len(args) > 2 {
		h.sendErr(errors.InvalidSyntax("listMethods,lm <object> [full]"), h.reqID)
		return
	}
	full := len(args) == 2 && args[1] == "full"
	h.dispatchComp(args[0], false, func(c *wrapper.Component) (string, error) {
		return c.ListMethods(full)
	})
}

func cmdListMonitors(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("listMonitors,lo <objectName>"), h.reqID)
		return
	}
	h.dispatchComp(args[0], false, func(c *wrapper.Component) (string, error) {
		return c.ListMonitors()
	})
}

func cmdListComponents(h *Handler, args []string) {
	if len(args) > 1 {
		h.sendErr(errors.InvalidSyntax("listComponents,lc"), h.reqID)
		return
	}
	names := h.server.registry.Names()
	lines := []string{fmt.Sprintf("%d components found:", len(names))}
	h.sendReply(strings.Join(append(lines, names...), "\n"), h.reqID)
}

func cmdListCategories(h *Handler, args []string) {
	if len(args) > 1 {
		h.sendErr(errors.InvalidSyntax("listCategories,la [category]"), h.reqID)
		return
	}
	category := ""
	if len(args) == 1 {
		category = strings.Trim(strings.Trim(args[0], `"`), "/")
		if category != "" {
			category += "/"
		}
	}

	seen := make(map[string]bool)
	var categories []string
	for _, name := range h.server.registry.Names() {
		if !strings.HasPrefix(name, category) {
			continue
		}
		rest := name[len(category):]
		if slash := strings.Index(rest, "/"); slash > 0 {
			sub := rest[:slash]
			if !seen[sub] {
				seen[sub] = true
				categories = append(categories, sub)
			}
		}
	}
	sort.Strings(categories)
	lines := []string{fmt.Sprintf("%d categories found:", len(categories))}
	h.sendReply(strings.Join(append(lines, categories...), "\n"), h.reqID)
}

func cmdListGlobals(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("listGlobals,lg"), h.reqID)
		return
	}
	// Global namespace sharing is not supported.
	h.sendReply("0 global objects started:", h.reqID)
}

func cmdGetHierarchy(h *Handler, args []string) {
	if len(args) < 1 || len(args) > 2 {
		h.sendErr(errors.InvalidSyntax("getHierarchy <object> [gzipData]"), h.reqID)
		return
	}
	gzipData := false
	if len(args) == 2 {
		if args[1] != "gzipData" {
			h.sendErr(errors.InvalidSyntax("getHierarchy <object> [gzipData]"), h.reqID)
			return
		}
		gzipData = true
	}
	h.dispatchComp(args[0], false, func(c *wrapper.Component) (string, error) {
		return c.GetHierarchy(gzipData)
	})
}

func cmdGetStatus(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getStatus"), h.reqID)
		return
	}
	var lines []string
	for _, name := range h.instanceNames() {
		lines = append(lines, name+": ready")
	}
	h.sendReply(strings.Join(lines, "\n"), h.reqID)
}

func cmdGetSysInfo(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getSysInfo"), h.reqID)
		return
	}
	h.sendReply(fmt.Sprintf(`version: %s
build: %s
num clients: %d
num components: %d
os name: %s
os arch: %s
os version: %s
go version: %s
user name: %s`,
		ASVersion, ASBuild, h.server.NumClients(), h.server.registry.Len(),
		runtime.GOOS, runtime.GOARCH, osRelease(), runtime.Version(),
		userName()), h.reqID)
}

func cmdGetVersion(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getVersion"), h.reqID)
		return
	}
	h.sendReply(fmt.Sprintf(`OpenMDAO Analysis Server %s
Use at your own risk!
Attempting to support Phoenix Integration, Inc.
version: %s, build: %s`, Version, ASVersion, ASBuild), h.reqID)
}

func cmdGetLicense(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getLicense"), h.reqID)
		return
	}
	h.sendReply("Use at your own risk!", h.reqID)
}

func cmdGetDirectTransfer(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getDirectTransfer"), h.reqID)
		return
	}
	h.sendReply("false", h.reqID)
}

func cmdGetBranches(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("getBranchesAndTags"), h.reqID)
		return
	}
	h.sendReply("", h.reqID) // not supported
}

func cmdSetDictionary(h *Handler, args []string) {
	// The dictionary XML is accepted but not used.
	h.sendReply("", h.reqID)
}

func cmdGetIcon(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("getIcon <analysisComponent>"), h.reqID)
		return
	}
	if h.getComponent(args[0]) == nil {
		return
	}
	h.sendErr(errors.NotImplemented("getIcon"), h.reqID)
}

func cmdMove(h *Handler, args []string) {
	if len(args) != 2 {
		h.sendErr(errors.InvalidSyntax("move,rename,mv,rn <from> <to>"), h.reqID)
		return
	}
	h.sendErr(errors.NotImplemented("move"), h.reqID)
}

func cmdVersions(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("versions,v category/component"), h.reqID)
		return
	}
	cfg := h.getComponent(args[0])
	if cfg == nil {
		return
	}
	h.sendReply(fmt.Sprintf(`<Branch name='HEAD'>
 <Version name='%s'>
  <author>%s</author>
  <date>%s</date>
  <description>%s</description>
 </Version>
</Branch>`,
		cfg.Version, xmlEscape(cfg.Author), cfg.Timestamp.Format(time.ANSIC),
		xmlEscape(cfg.Comment)), h.reqID)
}

func cmdPs(h *Handler, args []string) {
	if len(args) != 1 {
		h.sendErr(errors.InvalidSyntax("ps <object>"), h.reqID)
		return
	}
	name := strings.Trim(args[0], `"`)
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		return c.Ps()
	})
}

func cmdMonitor(h *Handler, args []string) {
	if len(args) != 2 || (args[0] != "start" && args[0] != "stop") {
		h.sendErr(errors.InvalidSyntax("monitor start <object.property>, monitor stop <id>"), h.reqID)
		return
	}

	if args[0] == "start" {
		name, path, _ := strings.Cut(args[1], ".")
		reqID := h.reqID
		monitorID := h.monitorID()
		inst := h.getInstance(name, reqID)
		if inst == nil {
			return
		}
		h.mu.Lock()
		h.monitors[monitorID] = name
		h.mu.Unlock()
		h.submit(inst, false, func() {
			send := func(data string) { h.sendReply(data, reqID) }
			if err := inst.comp.StartMonitor(path, monitorID, send); err != nil {
				h.mu.Lock()
				delete(h.monitors, monitorID)
				h.mu.Unlock()
				h.sendErr(err, reqID)
			}
		})
		return
	}

	monitorID := args[1]
	h.mu.Lock()
	name, ok := h.monitors[monitorID]
	delete(h.monitors, monitorID)
	h.mu.Unlock()
	if !ok {
		h.sendError(fmt.Sprintf("No monitor registered for %q", monitorID), h.reqID)
		return
	}
	h.dispatchComp(name, false, func(c *wrapper.Component) (string, error) {
		if err := c.StopMonitor(monitorID); err != nil {
			return "", err
		}
		return "", nil
	})
}

func cmdHeartbeat(h *Handler, args []string) {
	if len(args) != 1 || (args[0] != "start" && args[0] != "stop") {
		h.sendErr(errors.InvalidSyntax("heartbeat,hb [start|stop]"), h.reqID)
		return
	}
	if args[0] == "start" {
		if h.hb != nil { // ensure only one
			h.hb.stop()
		}
		h.hb = h.startHeartbeat(h.reqID)
		h.sendReply("Heartbeating started", h.reqID)
		return
	}
	if h.hb != nil {
		h.hb.stop()
		h.hb = nil
	}
	h.sendReply("Heartbeating stopped", h.reqID)
}

func cmdSetMode(h *Handler, args []string) {
	if len(args) != 1 || args[0] != "raw" {
		h.sendErr(errors.InvalidSyntax("setMode raw"), h.reqID)
		return
	}
	if err := h.stream.SetRaw(true); err != nil {
		h.sendErr(err, h.reqID)
		return
	}
	// No reply on a successful transition.
}

func cmdQuit(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("quit"), h.reqID)
		return
	}
	// The session loop exits after dispatch; no reply is sent.
}

func cmdHelp(h *Handler, args []string) {
	if len(args) != 0 {
		h.sendErr(errors.InvalidSyntax("help,h"), h.reqID)
		return
	}
	// As listed by Analysis Server version: 7.0, build: 42968.
	h.sendReply(`Available Commands:
   listComponents,lc [category]
   listCategories,la [category]
   describe,d <category/component> [-xml]
   setServerAuthInfo <serverURL> <username> <password> (NOT IMPLEMENTED)
   start <category/component> <instanceName> [connector] [queue]
   end <object>
   execute,x <objectName>
   listProperties,list,ls,l [object]
   listGlobals,lg
   listValues,lv <object>
   listArrayValues,lav <object> (NOT IMPLEMENTED)
   get <object.property>
   set <object.property> = <value>
   move,rename,mv,rn <from> <to> (NOT IMPLEMENTED)
   getIcon <analysisComponent> (NOT IMPLEMENTED)
   getIcon2 <analysisComponent> (NOT IMPLEMENTED)
   getVersion
   getLicense
   getStatus
   help,h
   quit
   getSysInfo
   invoke <object.method()> [full]
   listMethods,lm <object> [full]
   addProxyClients <clientHost1>,<clientHost2>
   monitor start <object.property>, monitor stop <id>
   versions,v category/component
   ps <object>
   listMonitors,lo <objectName>
   heartbeat,hb [start|stop]
   listValuesURL,lvu <object>
   getDirectTransfer
   getByUrl <object.property> <url> (NOT IMPLEMENTED)
   setByUrl <object.property> = <url> (NOT IMPLEMENTED)
   setDictionary <xml dictionary string> (xml accepted, but not used)
   getHierarchy <object.property>
   setHierarchy <object.property> <xml>
   deleteRunShare <key> (NOT IMPLEMENTED)
   getBranchesAndTags (NOT IMPLEMENTED)
   getQueues <category/component> [full] (NOT IMPLEMENTED)
   setRunQueue <object> <connector> <queue> (NOT IMPLEMENTED)`, h.reqID)
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func userName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// osRelease reports the kernel release on Linux, or "unknown" elsewhere.
func osRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}
