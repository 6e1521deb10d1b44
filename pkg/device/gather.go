package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Session is the RPC capability the gatherer needs from an established
// NETCONF session.
type Session interface {
	// Execute sends one RPC operation and returns the raw <rpc-reply>.
	Execute(ctx context.Context, operation string) ([]byte, error)
}

// versionFromComment extracts a version string like "15.1X53-D59.3" from a
// package-information comment ("JUNOS Base OS boot [15.1X53-D59.3]"), the
// form older releases report instead of <junos-version>.
var versionFromComment = regexp.MustCompile(`\[([^\[\]]+)\]`)

// GatherFacts retrieves the identity record from a device over an
// established session. The RPC sequence mirrors the device's own view of the
// call-home connection:
//
//  1. software information: version, host name, model
//  2. chassis inventory: serial number
//  3. outbound-ssh configuration: which server address the device dialed
//  4. route lookup toward that address: the management interface
//  5. interface information: management address and MAC
//
// A reply that parses but lacks an expected field leaves the corresponding
// Facts field empty (and skips lookups that depend on it). An RPC that fails
// outright aborts with an error; the caller treats that as a facts failure
// and never invokes the device callback.
func GatherFacts(ctx context.Context, sess Session) (*Facts, error) {
	facts := &Facts{}

	reply, err := sess.Execute(ctx, "<get-software-information/>")
	if err != nil {
		return nil, fmt.Errorf("get-software-information: %w", err)
	}
	facts.Hostname = findFirst(reply, "host-name")
	facts.Model = findFirst(reply, "product-model")
	facts.OSVersion = softwareVersion(reply)

	reply, err = sess.Execute(ctx, "<get-chassis-inventory/>")
	if err != nil {
		return nil, fmt.Errorf("get-chassis-inventory: %w", err)
	}
	facts.SerialNumber = findFirst(reply, "serial-number")

	// The management path is discovered from the device's own outbound-ssh
	// configuration: a route lookup toward the first configured server
	// yields the interface facing us.
	reply, err = sess.Execute(ctx,
		"<get-configuration><configuration><system><services><outbound-ssh/></services></system></configuration></get-configuration>")
	if err != nil {
		return nil, fmt.Errorf("get-configuration: %w", err)
	}
	serverAddr := findScoped(reply, "servers", "name")
	if serverAddr == "" {
		return facts, nil
	}

	reply, err = sess.Execute(ctx, fmt.Sprintf(
		"<get-route-information><destination>%s</destination></get-route-information>", serverAddr))
	if err != nil {
		return nil, fmt.Errorf("get-route-information: %w", err)
	}
	logicalIf := findFirstAny(reply, "via", "nh-local-interface")
	if logicalIf == "" {
		return facts, nil
	}

	// The route lookup yields the logical unit (e.g. "vme.0"); the physical
	// interface name is the part before the unit separator.
	physicalIf, _, _ := strings.Cut(logicalIf, ".")
	facts.MgmtInterface = physicalIf

	reply, err = sess.Execute(ctx, fmt.Sprintf(
		"<get-interface-information><interface-name>%s</interface-name><terse/></get-interface-information>", logicalIf))
	if err != nil {
		return nil, fmt.Errorf("get-interface-information terse: %w", err)
	}
	if local := findFirst(reply, "ifa-local"); local != "" {
		addr, _, _ := strings.Cut(local, "/")
		facts.MgmtIPAddr = strings.TrimSpace(addr)
	}

	reply, err = sess.Execute(ctx, fmt.Sprintf(
		"<get-interface-information><interface-name>%s</interface-name><media/></get-interface-information>", physicalIf))
	if err != nil {
		return nil, fmt.Errorf("get-interface-information media: %w", err)
	}
	facts.MgmtMACAddr = findFirst(reply, "current-physical-address")

	return facts, nil
}

func softwareVersion(reply []byte) string {
	if v := findFirst(reply, "junos-version"); v != "" {
		return v
	}
	if comment := findScoped(reply, "package-information", "comment"); comment != "" {
		if m := versionFromComment.FindStringSubmatch(comment); m != nil {
			return m[1]
		}
	}
	return ""
}
