package wrapper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/types"
)

const groupType = "com.phoenix_int.aserver.PHXGroup"

// resolved is one cached property path resolution.
type resolved struct {
	wrapper VarWrapper
	attr    string
}

// Component adapts one started instance to the legacy command surface.
// Variable wrappers are created lazily on first reference and cached; the
// external-to-internal path mapping comes from the published Entry.
//
// Methods return the reply text for the session layer to frame; they do
// not talk to the transport themselves.
type Component struct {
	name string
	sys  types.System
	cfg  *registry.Entry

	mu       sync.Mutex
	wrappers map[string]VarWrapper // internal path -> wrapper
	pathMap  map[string]resolved   // external path -> (wrapper, attr)
	monitors map[string]*FileMonitor
	started  time.Time // zero when not running
}

// NewComponent wraps a started instance named name.
func NewComponent(name string, sys types.System, cfg *registry.Entry) *Component {
	return &Component{
		name:     name,
		sys:      sys,
		cfg:      cfg,
		wrappers: make(map[string]VarWrapper),
		pathMap:  make(map[string]resolved),
		monitors: make(map[string]*FileMonitor),
	}
}

// Name returns the instance name.
func (c *Component) Name() string { return c.name }

// Entry returns the published entry this instance was started from.
func (c *Component) Entry() *registry.Entry { return c.cfg }

// resolve returns the (wrapper, attr) pair for an external path. A path
// naming a variable resolves with attr "value"; a path with one extra
// trailing segment resolves to that sub-property of the variable.
func (c *Component) resolve(extPath string) (VarWrapper, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(extPath)
}

func (c *Component) resolveLocked(extPath string) (VarWrapper, string, error) {
	if r, ok := c.pathMap[extPath]; ok {
		return r.wrapper, r.attr, nil
	}

	var intPath, epath, extAttr string
	if p, ok := c.cfg.Properties[extPath]; ok {
		intPath, epath = p, extPath
	} else {
		i := strings.LastIndex(extPath, ".")
		if i < 0 {
			return nil, "", errors.NoSuchProperty(extPath)
		}
		epath, extAttr = extPath[:i], extPath[i+1:]
		p, ok := c.cfg.Properties[epath]
		if !ok {
			return nil, "", errors.NoSuchProperty(extPath)
		}
		intPath = p
	}

	w, ok := c.wrappers[intPath]
	if !ok {
		_, isInput := c.cfg.Inputs[epath]
		var err error
		w, err = NewVarWrapper(c.sys, intPath, epath, isInput)
		if err != nil {
			return nil, "", err
		}
		c.wrappers[intPath] = w
	}

	attr := extAttr
	if attr == "" {
		attr = "value"
	}
	c.pathMap[extPath] = resolved{wrapper: w, attr: attr}
	return w, attr, nil
}

// Run executes the instance and reports "<name> completed.".
func (c *Component) Run() (string, error) {
	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.started = time.Time{}
		c.mu.Unlock()
	}()

	if err := c.sys.Run(); err != nil {
		return "", errors.Internal(err)
	}
	return fmt.Sprintf("%s completed.", c.name), nil
}

// Get returns the wire form of a variable or sub-property.
func (c *Component) Get(path string) (string, error) {
	w, attr, err := c.resolve(path)
	if err != nil {
		return "", err
	}
	return w.Get(attr, path)
}

// Set assigns a variable or sub-property from its wire form and reports
// "value set for <path>". Symmetric surrounding quotes are optional.
func (c *Component) Set(path, valstr string) (string, error) {
	if strings.HasPrefix(valstr, `"`) && strings.HasSuffix(valstr, `"`) && len(valstr) >= 2 {
		valstr = valstr[1 : len(valstr)-1]
	}
	if err := c.set(path, valstr, false); err != nil {
		return "", err
	}
	return fmt.Sprintf("value set for <%s>", path), nil
}

func (c *Component) set(path, valstr string, gzipped bool) error {
	w, attr, err := c.resolve(path)
	if err != nil {
		return err
	}
	return w.Set(attr, path, valstr, gzipped)
}

// Invoke calls a published method. With full set, the result is wrapped in
// the XML response envelope.
func (c *Component) Invoke(method string, full bool) (string, error) {
	attr, ok := c.cfg.Methods[method]
	if !ok {
		return "", errors.Internalf("no such method <%s>.", method)
	}
	result, err := c.sys.Invoke(attr)
	if err != nil {
		return "", errors.Internal(err)
	}

	var reply string
	switch v := result.(type) {
	case nil:
		reply = ""
	case float64:
		reply = Float2Str(v)
	case string:
		reply = EscapeString(v)
	default:
		reply = fmt.Sprintf("%v", v)
	}

	if full {
		// download is always true since side effects are unknown.
		reply = `<?xml version="1.0" encoding="UTF-8" standalone="no" ?>` +
			`<response><version>100.0</version><download>true</download>` +
			fmt.Sprintf(`<string>%s</string></response>`, xmlEscape(reply))
	}
	return reply, nil
}

// GetHierarchy returns every published variable as XML grouped by the
// external path hierarchy.
func (c *Component) GetHierarchy(gzipped bool) (string, error) {
	lines := []string{"<?xml version='1.0' encoding='utf-8'?>", "<Group>"}
	group := ""
	for _, path := range sortedKeys(c.cfg.Properties) {
		w, _, err := c.resolve(path)
		if err != nil {
			return "", err
		}
		prefix := ""
		if i := strings.LastIndex(path, "."); i >= 0 {
			prefix = path[:i]
		}
		if prefix != group {
			for !strings.HasPrefix(prefix, group) {
				lines = append(lines, "</Group>")
				if i := strings.LastIndex(group, "."); i >= 0 {
					group = group[:i]
				} else {
					group = ""
				}
			}
			name, rest, _ := strings.Cut(prefix, ".")
			if name != "" {
				lines = append(lines, fmt.Sprintf(`<Group name="%s">`, name))
			}
			for rest != "" {
				name, rest, _ = strings.Cut(rest, ".")
				lines = append(lines, fmt.Sprintf(`<Group name="%s">`, name))
			}
			group = prefix
		}
		xml, err := w.GetAsXML(gzipped)
		if err != nil {
			return "", errors.Internalf("Can't get %q: %s", path, errors.WireMessage(err))
		}
		lines = append(lines, xml)
	}
	lines = append(lines, "</Group>")
	return strings.Join(lines, "\n"), nil
}

// ListMethods lists published methods; full adds the fullName attribute.
func (c *Component) ListMethods(full bool) (string, error) {
	names := make([]string, 0, len(c.cfg.Methods))
	for name := range c.cfg.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{fmt.Sprintf("%d methods found:", len(names))}
	for _, name := range names {
		line := name + "()"
		if full {
			line += fmt.Sprintf(" fullName=\"%s/%s\"", c.cfg.Name, name)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// ListProperties lists the variables of a component or subsystem, or the
// sub-properties of one variable.
func (c *Component) ListProperties(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listPropertiesLocked(path)
}

func (c *Component) listPropertiesLocked(path string) (string, error) {
	if path != "" {
		if w, _, err := c.resolveLocked(path); err == nil {
			props := w.ListProperties()
			lines := []string{fmt.Sprintf("%d properties found:", len(props))}
			return strings.Join(append(lines, props...), "\n"), nil
		} else if !errors.IsKind(err, errors.KindNoSuchProperty) {
			return "", err
		}
		// Not a variable; list it as a subsystem below.
	}

	prefix := path
	if prefix != "" {
		prefix += "."
	}
	groups := make(map[string]bool)
	var lines []string
	for _, extPath := range sortedKeys(c.cfg.Properties) {
		if prefix != "" && !strings.HasPrefix(extPath, prefix) {
			continue
		}
		rest := extPath[len(prefix):]
		name, rest, _ := strings.Cut(rest, ".")
		var typ, access string
		if rest != "" {
			if groups[name] {
				continue
			}
			groups[name] = true
			typ, access = groupType, "sg"
		} else {
			w, _, err := c.resolveLocked(extPath)
			if err != nil {
				return "", err
			}
			typ, err = w.PHXType()
			if err != nil {
				return "", err
			}
			access = w.PHXAccess()
		}
		lines = append(lines, fmt.Sprintf("%s (type=%s) (access=%s)", name, typ, access))
	}
	header := fmt.Sprintf("%d properties found:", len(lines))
	return strings.Join(append([]string{header}, lines...), "\n"), nil
}

// ListValues lists variables with their current values. At the component
// level each variable's sub-properties are included.
func (c *Component) ListValues(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	props, err := c.listPropertiesLocked(path)
	if err != nil {
		return "", err
	}
	propLines := strings.Split(props, "\n")
	lines := []string{propLines[0]}

	prefix := path
	if prefix != "" {
		prefix += "."
	}
	for _, line := range propLines[1:] {
		name, typ, access, err := splitPropertyLine(line)
		if err != nil {
			return "", err
		}
		if typ == "(type="+groupType+")" {
			val := "Group: " + name
			lines = append(lines, fmt.Sprintf("%s %s %s  vLen=%d  val=%s",
				name, typ, access, len(val), val))
			continue
		}
		extPath := prefix + name
		w, _, err := c.resolveLocked(extPath)
		if err != nil {
			return "", err
		}
		val, err := w.Get("value", extPath)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s %s %s  vLen=%d  val=%s",
			name, typ, access, len(val), val))
		if path != "" {
			continue // no sub-properties below the top level
		}

		subProps, err := c.listPropertiesLocked(extPath)
		if err != nil {
			return "", err
		}
		subLines := strings.Split(subProps, "\n")[1:]
		lines = append(lines, fmt.Sprintf("   %d SubProps found:", len(subLines)))
		for _, sub := range subLines {
			subName, subTyp, subAccess, err := splitPropertyLine(sub)
			if err != nil {
				return "", err
			}
			var subVal string
			if subTyp == "(type="+groupType+")" {
				subVal = "Group: " + subName
			} else {
				subVal, err = w.Get(subName, extPath)
				if err != nil {
					return "", err
				}
			}
			lines = append(lines, fmt.Sprintf("%s %s %s  vLen=%d  val=%s",
				subName, subTyp, subAccess, len(subVal), subVal))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ListValuesURL is ListValues; direct file transfer is not supported, so
// no URLs are substituted.
func (c *Component) ListValuesURL(path string) (string, error) {
	return c.ListValues(path)
}

// ListArrayValues is recognized but unsupported.
func (c *Component) ListArrayValues(path string) (string, error) {
	return "", errors.NotImplemented("listArrayValues")
}

// ListMonitors lists the monitorable text files in the instance's
// directory. A file is text when its first 4KB contains no NUL byte.
func (c *Component) ListMonitors() (string, error) {
	root := c.sys.Directory()
	dirents, err := os.ReadDir(root)
	if err != nil {
		return "", errors.Internal(err)
	}
	var textFiles []string
	for _, ent := range dirents {
		if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		if isTextFile(filepath.Join(root, ent.Name())) {
			textFiles = append(textFiles, ent.Name())
		}
	}
	sort.Strings(textFiles)
	lines := append([]string{fmt.Sprintf("%d monitors:", len(textFiles))}, textFiles...)
	return strings.Join(lines, "\n"), nil
}

// StartMonitor starts streaming a text file in the instance directory.
// The monitor id is the request id that started it.
func (c *Component) StartMonitor(path, monitorID string, send SendFunc) error {
	m, err := NewFileMonitor(filepath.Join(c.sys.Directory(), path), send)
	if err != nil {
		return errors.Internal(err)
	}
	m.Start()
	c.mu.Lock()
	c.monitors[monitorID] = m
	c.mu.Unlock()
	return nil
}

// StopMonitor stops a running monitor.
func (c *Component) StopMonitor(monitorID string) error {
	c.mu.Lock()
	m, ok := c.monitors[monitorID]
	delete(c.monitors, monitorID)
	c.mu.Unlock()
	if !ok {
		return errors.Internalf("No registered monitor for %q", monitorID)
	}
	m.Stop()
	return nil
}

// HasMonitor reports whether the monitor id is registered.
func (c *Component) HasMonitor(monitorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.monitors[monitorID]
	return ok
}

// Ps reports the instance's process info as XML. When the instance is not
// running the pid is forced to zero.
func (c *Component) Ps() (string, error) {
	command := filepath.Base(os.Args[0])

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started.IsZero() {
		return fmt.Sprintf(`<Processes length='1'>
 <Process pid='0'>
  <ParentPID>0</ParentPID>
  <PercentCPU>0.0</PercentCPU>
  <Memory>0</Memory>
  <Time>0</Time>
  <WallTime>0</WallTime>
  <Command>%s</Command>
 </Process>
</Processes>`, xmlEscape(command)), nil
	}

	walltime := time.Since(started).Seconds()
	return fmt.Sprintf(`<Processes length='1'>
 <Process pid='%d'>
  <ParentPID>%d</ParentPID>
  <PercentCPU>0.0</PercentCPU>
  <Memory>0</Memory>
  <Time>0</Time>
  <WallTime>%.1f</WallTime>
  <Command>%s</Command>
 </Process>
</Processes>`, os.Getpid(), os.Getppid(), walltime, xmlEscape(command)), nil
}

// PreDelete stops all monitors and releases the instance's resources.
func (c *Component) PreDelete() {
	c.mu.Lock()
	monitors := c.monitors
	c.monitors = make(map[string]*FileMonitor)
	c.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
	c.sys.PreDelete()
}

func isTextFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 1<<12)
	n, _ := f.Read(buf)
	for _, b := range buf[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}

// splitPropertyLine splits "name (type=X) (access=Y)".
func splitPropertyLine(line string) (name, typ, access string, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", errors.Internalf("malformed property line %q", line)
	}
	return fields[0], fields[1], fields[2], nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
