// Package traybridge controls system tray icons owned by a separate host
// process. The client never touches the operating system: it issues
// request/response calls across the process boundary and receives tray icon
// events through push channels.
//
// # Usage
//
// A bridge consists of a client [Conn] and a host [Backend]:
//   - [Conn] carries calls to the host and routes pushed messages to
//     [Channel] instances. [DBusConn], [WebSocketConn], and [Pipe] implement
//     it; [Connect] opens one from a [Config].
//   - [Backend] executes the tray command namespace on the host side.
//     [LocalHost] is an in-memory implementation, exposed over D-Bus by
//     [Service] and over WebSocket by [WebSocketHandler].
//
// [TrayIcon] is the client-side handle of one tray icon:
//
//	tray, err := traybridge.NewTrayIcon(ctx, conn, traybridge.Options{
//		Tooltip: "awesome tray tooltip",
//		Action: func(e traybridge.Event) {
//			if click, ok := e.(traybridge.ClickEvent); ok {
//				log.Println(click.Button, click.ButtonState)
//			}
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer tray.Close(ctx)
//
//	err = tray.SetTooltip(ctx, "new tooltip")
//
// Events are pushed by the host in a wire form with coordinate-space tagged
// positions; [MapEvent] converts them into [Event] values.
package traybridge
