package server

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Broadcast Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #layout { display: flex; gap: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            width: 500px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
        }
        #users { border: 1px solid #ccc; min-width: 150px; padding: 10px; }
        input[type="text"] { width: 250px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:disabled { background-color: #999; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .system { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>Broadcast Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <input type="text" id="nameInput" placeholder="Display name..." disabled>
        <button id="registerButton" onclick="register()" disabled>Register</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="layout">
        <div>
            <h3>Messages</h3>
            <div id="messages"></div>
        </div>
        <div>
            <h3>Users</h3>
            <ul id="users"></ul>
        </div>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const usersList = document.getElementById('users');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const controls = ['nameInput', 'registerButton', 'messageInput', 'sendButton']
            .map(id => document.getElementById(id));
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const line = document.createElement('div');
            line.textContent = text;
            if (cls) {
                line.className = cls;
            }
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showUsers(names) {
            usersList.innerHTML = '';
            names.forEach(name => {
                const item = document.createElement('li');
                item.textContent = name;
                usersList.appendChild(item);
            });
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(el => el.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function handleEnvelope(raw) {
            let envelope;
            try {
                envelope = JSON.parse(raw);
            } catch (e) {
                addLine('Unreadable frame: ' + raw, 'system');
                return;
            }
            if (envelope.messageType === 'users') {
                showUsers(envelope.dataArray || []);
            } else if (envelope.messageType === 'message') {
                try {
                    const payload = JSON.parse(envelope.data);
                    addLine(payload.from + ': ' + payload.message,
                        payload.from === 'System' ? 'system' : '');
                } catch (e) {
                    addLine(envelope.data || '', 'system');
                }
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => updateStatus(true);
            ws.onmessage = event => handleEnvelope(event.data);
            ws.onclose = () => {
                addLine('Connection closed', 'system');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = () => addLine('Connection error', 'system');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(envelope) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(envelope));
            }
        }

        function register() {
            const name = nameInput.value.trim();
            send(name ? { messageType: 'register', data: name } : { messageType: 'register' });
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                send({ messageType: 'message', data: text });
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', e => {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
