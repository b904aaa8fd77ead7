package devserver

// Paths served by the dev server itself
const (
	ClientPath = "/__fluxpack/client.js"
	SocketPath = "/__fluxpack/ws"
	StatusPath = "/__fluxpack/status"
)

// clientScript reloads the page after a successful build and logs failed
// builds to the console. It reconnects when the server restarts.
const clientScript = `(function () {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var url = proto + "//" + location.host + "` + SocketPath + `";
  var generation = -1;
  var retry = 500;
  function connect() {
    var ws = new WebSocket(url);
    ws.onopen = function () { retry = 500; };
    ws.onmessage = function (event) {
      var msg;
      try { msg = JSON.parse(event.data); } catch (e) { return; }
      if (msg.type === "build-ok") {
        if (generation >= 0 && msg.generation > generation) {
          location.reload();
          return;
        }
        generation = msg.generation;
      } else if (msg.type === "build-failed") {
        console.error("[fluxpack] build " + msg.generation + " failed");
        (msg.errors || []).forEach(function (err) { console.error("[fluxpack] " + err.message); });
      }
    };
    ws.onclose = function () {
      setTimeout(connect, retry);
      retry = Math.min(retry * 2, 10000);
    };
  }
  connect();
})();
`
