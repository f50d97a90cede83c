package systemd

import "github.com/godbus/dbus/v5"

// Available reports whether a systemd manager is reachable on the system
// bus. This correctly handles non-systemd Linux systems that still run a
// D-Bus daemon: the bus connects but org.freedesktop.systemd1 has no owner.
func Available() bool {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var owner string
	err = conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus").
		Call("org.freedesktop.DBus.GetNameOwner", 0, "org.freedesktop.systemd1").
		Store(&owner)

	return err == nil && owner != ""
}
