/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package web

// panelHTML is the single-page operator panel. It is self-contained:
// no external assets, everything through the JSON API.
// panelHTML 是单页运维面板。完全自包含：无外部资源，全部通过 JSON
// API 交互。
const panelHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>AjiPilot</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 720px; color: #222; }
  h1 { font-size: 1.4rem; }
  .card { border: 1px solid #ddd; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
  .state { font-weight: bold; }
  .state.ACTIVE { color: #1a7f37; }
  .state.DEGRADED, .state.RECONNECTING, .state.CONNECTING { color: #b58900; }
  .state.FAILED { color: #cb2431; }
  button { margin-right: .5rem; padding: .4rem .9rem; border: 1px solid #888; border-radius: 6px; background: #f6f8fa; cursor: pointer; }
  button:hover { background: #eaeef2; }
  table { border-collapse: collapse; width: 100%; }
  td, th { text-align: left; padding: .25rem .5rem; border-bottom: 1px solid #eee; }
  #msg { color: #555; min-height: 1.2em; }
</style>
</head>
<body>
<h1>AjiPilot</h1>
<div class="card">
  <div>State: <span id="state" class="state">...</span></div>
  <div>Node: <span id="node">-</span> &middot; Protocol: <span id="protocol">-</span> &middot; PID: <span id="pid">-</span></div>
  <div>External IP: <span id="ip">-</span> &middot; Next rotation: <span id="rotation">-</span></div>
  <div id="msg"></div>
</div>
<div class="card">
  <button onclick="act('/api/connect')">Connect</button>
  <button onclick="act('/api/disconnect')">Disconnect</button>
  <button onclick="act('/api/rotate')">Rotate</button>
  <button onclick="act('/api/cleanup')">Cleanup</button>
  <button onclick="loadNodes()">Refresh nodes</button>
</div>
<div class="card">
  <table id="nodes"><tr><th>Node</th><th>Status</th><th></th></tr></table>
</div>
<script>
async function refresh() {
  const s = await (await fetch('/api/status')).json();
  const el = document.getElementById('state');
  el.textContent = s.state;
  el.className = 'state ' + s.state;
  document.getElementById('node').textContent = s.node_label || '-';
  document.getElementById('protocol').textContent = s.protocol || '-';
  document.getElementById('pid').textContent = s.pid || '-';
  document.getElementById('rotation').textContent = s.next_rotation || '-';
  document.getElementById('msg').textContent = s.last_error || '';
}
async function refreshIP() {
  const r = await (await fetch('/api/external_ip')).json();
  document.getElementById('ip').textContent = r.external_ip;
}
async function act(path, body) {
  document.getElementById('msg').textContent = 'working...';
  const r = await fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'},
    body: body ? JSON.stringify(body) : null});
  const j = await r.json();
  document.getElementById('msg').textContent = r.ok ? '' : (j.error || r.statusText);
  refresh(); refreshIP();
}
async function loadNodes() {
  const r = await (await fetch('/api/nodes')).json();
  const t = document.getElementById('nodes');
  t.innerHTML = '<tr><th>Node</th><th>Status</th><th></th></tr>';
  (r.nodes || []).forEach(n => {
    const row = t.insertRow();
    row.insertCell().textContent = n.label;
    row.insertCell().textContent = n.status;
    const b = document.createElement('button');
    b.textContent = 'Connect';
    b.onclick = () => act('/api/connect', {label: n.label});
    row.insertCell().appendChild(b);
  });
}
refresh(); refreshIP();
setInterval(refresh, 5000);
setInterval(refreshIP, 30000);
</script>
</body>
</html>
`
