package api

const eventsDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Live Events · Proxy History</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    nav .sep { color: #484f58; }
    nav .current { color: #e6edf3; font-weight: 500; }
    main { max-width: 900px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; font-weight: 600; color: #e6edf3; }
    h2 {
      margin: 40px 0 12px;
      font-size: 18px;
      font-weight: 600;
      color: #e6edf3;
      padding-bottom: 8px;
      border-bottom: 1px solid #21262d;
    }
    .subtitle { color: #8b949e; margin: 0 0 36px; font-size: 15px; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 20px; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; border-bottom: 1px solid #30363d; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 5px;
      color: #e6edf3;
    }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 16px; overflow-x: auto; }
    pre code { background: none; border: none; padding: 0; font-size: 13px; color: #c9d1d9; }
  </style>
</head>
<body>

<nav>
  <span class="brand">Proxy History</span>
  <span class="sep">/</span>
  <span class="current">Live Events</span>
  <a href="/docs">← REST API Docs</a>
</nav>

<main>
  <h1>Live Events</h1>
  <p class="subtitle">Follow history changes and notifications as they happen.</p>

  <h2 id="endpoints">Endpoints</h2>
  <table>
    <thead><tr><th>Path</th><th>Transport</th><th>Notes</th></tr></thead>
    <tbody>
      <tr>
        <td><code>GET /api/v1/events</code></td>
        <td>Server-Sent Events</td>
        <td>Optional <code>?feeds=change,notification</code>; omit to receive both.</td>
      </tr>
      <tr>
        <td><code>GET /api/v1/ws</code></td>
        <td>WebSocket</td>
        <td>Each frame is a JSON envelope with <code>id</code>, <code>type</code>, <code>data</code> and <code>timestamp</code>.</td>
      </tr>
    </tbody>
  </table>

  <h2 id="feeds">Feeds</h2>
  <table>
    <thead><tr><th>Feed</th><th>Payload</th></tr></thead>
    <tbody>
      <tr>
        <td><code>change</code></td>
        <td>
          Emitted after every batch flush, page merge, filter change, clear and selection change.
          Carries <code>kind</code>, <code>total</code>, <code>matched</code>, <code>version</code> and,
          for batches, <code>admitted</code> and <code>evicted</code>. Re-read the window with <code>POST /api/v1/history/scroll</code>.
        </td>
      </tr>
      <tr>
        <td><code>notification</code></td>
        <td>User-facing messages such as a failed clear or a dropped page, with <code>level</code> and <code>message</code>.</td>
      </tr>
    </tbody>
  </table>

  <h2 id="examples">Examples</h2>
  <pre><code>curl -N http://127.0.0.1:8190/api/v1/events
curl -N 'http://127.0.0.1:8190/api/v1/events?feeds=notification'</code></pre>
  <pre><code>const sse = new EventSource('/api/v1/events?feeds=change');
sse.addEventListener('change', (e) => {
  const change = JSON.parse(e.data);
  console.log(change.kind, change.matched, '/', change.total);
});</code></pre>
</main>

</body>
</html>`
